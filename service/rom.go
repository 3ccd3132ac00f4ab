package service

import (
	"errors"
	"sync"

	"github.com/genodego/core/capability"
	"github.com/genodego/core/dataspace"
	"github.com/genodego/core/rpc"
)

// ErrUnknownModule is returned when a ROM request names a module the
// service never received at boot and no server ever produced.
var ErrUnknownModule = errors.New("service: unknown rom module")

// RomOpcodeContent is the entrypoint opcode a ROM session's dataspace
// transfer dispatches through (§6.3); the only opcode Bind registers.
const RomOpcodeContent uint32 = 1

// Notifier submits a change signal to whichever context a watcher
// registered; it is the Receiver.Submit method of the watching
// component's signal receiver, bound to that watcher's context imprint.
type Notifier func()

// ROM serves read-only dataspaces keyed by name (§4.7): boot modules
// handed over at construction, plus dynamically generated ROMs that a
// server updates and whose watchers are notified on every Update.
type ROM struct {
	mtx sync.Mutex

	capSpace *capability.Space
	modules  map[string]*dataspace.Dataspace
	watchers map[string][]Notifier
}

// NewROM creates a ROM service pre-populated with boot modules.
func NewROM(boot map[string][]byte) *ROM {
	r := &ROM{
		capSpace: capability.NewSpace(),
		modules:  make(map[string]*dataspace.Dataspace),
		watchers: make(map[string][]Notifier),
	}
	for name, content := range boot {
		c, err := r.capSpace.Manufacture("rom:"+name, uint64(len(content)))
		if err != nil {
			continue
		}
		ds := dataspace.New(dataspace.KindROM, c, uint64(len(content)), dataspace.CacheCached, 0)
		_, _ = ds.WriteAt(content, 0)
		r.modules[name] = ds
	}
	return r
}

// Request returns the dataspace for a named module, per §4.7.
func (r *ROM) Request(name string) (*dataspace.Dataspace, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	ds, ok := r.modules[name]
	if !ok {
		return nil, ErrUnknownModule
	}
	ds.Ref()
	return ds, nil
}

// Update overwrites a dynamically generated ROM's content and notifies
// every watcher registered via Watch, per §4.7: "clients install a
// signal handler for change notifications."
func (r *ROM) Update(name string, content []byte) error {
	r.mtx.Lock()
	ds, ok := r.modules[name]
	if !ok {
		c, err := r.capSpace.Manufacture("rom:"+name, uint64(len(content)))
		if err != nil {
			r.mtx.Unlock()
			return err
		}
		ds = dataspace.New(dataspace.KindROM, c, uint64(len(content)), dataspace.CacheCached, 0)
		r.modules[name] = ds
	}
	watchers := append([]Notifier(nil), r.watchers[name]...)
	r.mtx.Unlock()

	if err := ds.Update(content); err != nil {
		return err
	}
	for _, notify := range watchers {
		notify()
	}
	return nil
}

// Watch registers notify to be called on every future update to name.
func (r *ROM) Watch(name string, notify Notifier) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.watchers[name] = append(r.watchers[name], notify)
}

// Bind registers this ROM service on ep at sel, so a module's content
// can be fetched across an entrypoint boundary instead of only by a
// caller in the same process. The reply is a one-byte compression flag
// followed by the dataspace's bytes, zstd-compressed via
// rpc.CompressPayload whenever they exceed rpc.CompressThreshold — the
// large-boot-module case §4.7/§6.3 this wire format exists for.
func (r *ROM) Bind(ep *rpc.Entrypoint, sel capability.Selector) {
	ep.Register(sel, nil)
	_ = ep.Bind(sel, RomOpcodeContent, func(arg []byte) ([]byte, []capability.Capability, error) {
		ds, err := r.Request(string(arg))
		if err != nil {
			return nil, nil, err
		}
		content := make([]byte, ds.Size())
		if _, err := ds.ReadAt(content, 0); err != nil {
			return nil, nil, err
		}
		payload, compressed, err := rpc.CompressPayload(content)
		if err != nil {
			return nil, nil, err
		}
		flag := byte(0)
		if compressed {
			flag = 1
		}
		return append([]byte{flag}, payload...), nil, nil
	})
}

// FetchContent calls a ROM service bound via Bind and decompresses its
// reply when the server's compression flag is set, the client-side half
// of Bind's wire format.
func FetchContent(ep *rpc.Entrypoint, sel capability.Selector, name string) ([]byte, error) {
	reply := ep.Call(RomOpcodeContent, sel, []byte(name))
	if reply.Err != nil {
		return nil, reply.Err
	}
	if len(reply.Result) == 0 {
		return nil, nil
	}
	flag, payload := reply.Result[0], reply.Result[1:]
	if flag == 1 {
		return rpc.DecompressPayload(payload)
	}
	return payload, nil
}
