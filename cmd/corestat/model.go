package main

import (
	"sync"

	"github.com/genodego/core/account"
	"github.com/genodego/core/dataspace"
	"github.com/genodego/core/kernelobj"
	"github.com/genodego/core/service"
	"github.com/genodego/core/session"
)

// pdRow is one line of the accounts table.
type pdRow struct {
	Name     string
	RAMUsed  uint64
	RAMLimit uint64
	CapUsed  uint64
	CapLimit uint64
}

// sessionRow is one line of the sessions table.
type sessionRow struct {
	ID      string
	Service string
	Label   string
	State   string
}

// model simulates a running core instance for corestat to watch: a root
// PD, a handful of child PDs each holding some RAM, and a session
// id-space with requests in various states. corestat has no channel back
// to a separately running cmd/core process (§6.5 gives core no config or
// persisted state to query out-of-band), so it demonstrates the same
// account/session introspection a real operator view would perform
// against whatever *service.PD and *session.IDSpace values a host
// process hands it.
type model struct {
	mtx sync.Mutex

	rootPD *service.PD
	pds    map[string]*service.PD
	order  []string

	sessions *session.IDSpace
}

func newModel(ramLimit, capLimit uint64) (*model, error) {
	kern := kernelobj.NewFake(true)
	rootRAM := account.NewRamGuard(ramLimit)
	rootCaps := account.NewCapGuard(capLimit)
	rootPD, err := service.NewPD(kern, rootRAM, rootCaps)
	if err != nil {
		return nil, err
	}
	if err := account.Transfer(rootRAM, rootPD.RAM, ramLimit); err != nil {
		return nil, err
	}
	if err := account.Transfer(rootCaps, rootPD.Caps, capLimit); err != nil {
		return nil, err
	}

	m := &model{
		rootPD:   rootPD,
		pds:      make(map[string]*service.PD),
		sessions: session.NewIDSpace(),
	}

	demo := []struct {
		name     string
		ram, cap uint64
		alloc    uint64
	}{
		{"init", ramLimit / 4, capLimit / 4, ramLimit / 16},
		{"drivers", ramLimit / 4, capLimit / 4, ramLimit / 8},
		{"logger", ramLimit / 8, capLimit / 8, ramLimit / 32},
	}
	for _, d := range demo {
		pd, err := service.NewPD(kern, rootRAM, rootCaps)
		if err != nil {
			return nil, err
		}
		if err := rootPD.TransferQuota(pd, true, d.ram); err != nil {
			return nil, err
		}
		if err := rootPD.TransferQuota(pd, false, d.cap); err != nil {
			return nil, err
		}
		if d.alloc > 0 {
			if _, err := pd.Alloc(d.alloc, dataspace.CacheCached); err != nil {
				return nil, err
			}
		}
		m.pds[d.name] = pd
		m.order = append(m.order, d.name)

		s := session.New("LOG", d.name, "", "", d.alloc, 1, false)
		m.sessions.Insert(s)
		_ = s.Ready()
	}
	return m, nil
}

// pdRows returns a stable-ordered snapshot of every PD's account usage.
func (m *model) pdRows() []pdRow {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	rows := []pdRow{{
		Name:     "core",
		RAMUsed:  m.rootPD.UsedRAM(),
		RAMLimit: m.rootPD.RAMQuota(),
		CapUsed:  m.rootPD.UsedCaps(),
		CapLimit: m.rootPD.CapQuota(),
	}}
	for _, name := range m.order {
		pd := m.pds[name]
		rows = append(rows, pdRow{
			Name:     name,
			RAMUsed:  pd.UsedRAM(),
			RAMLimit: pd.RAMQuota(),
			CapUsed:  pd.UsedCaps(),
			CapLimit: pd.CapQuota(),
		})
	}
	return rows
}

// sessionRows returns a snapshot of every session currently tracked.
func (m *model) sessionRows() []sessionRow {
	var rows []sessionRow
	m.sessions.Each(func(id uint64, s *session.Session) {
		rows = append(rows, sessionRow{
			ID:      s.ID,
			Service: s.ServiceName,
			Label:   s.Label,
			State:   s.State().String(),
		})
	})
	return rows
}
