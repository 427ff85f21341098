package model

import "time"

// Routine is a tenant-owned ordered practice routine. It is the one resource
// preserved for restricted access while a tenant is unplugged.
type Routine struct {
	ID        int64
	TenantID  int64
	Name      string
	Order     int
	CreatedAt time.Time
}

func (r *Routine) Owner() int64 { return r.TenantID }

// PracticeItem is a tenant-owned practice entry referenced by routines.
type PracticeItem struct {
	ID        int64
	TenantID  int64
	ItemRef   string
	Title     string
	Notes     string
	Duration  string
	Order     int
	Tuning    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i *PracticeItem) Owner() int64 { return i.TenantID }

// ChordChart is a tenant-owned chart attached to a practice item by ref.
type ChordChart struct {
	ChordID   int64
	TenantID  int64
	ItemRef   string
	Title     string
	ChordData []byte // JSON blob, stored as-is
	Order     int
	CreatedAt time.Time
}

func (c *ChordChart) Owner() int64 { return c.TenantID }

// PurgeCounts records how many rows the termination purge removed per table,
// for the sweep's audit log.
type PurgeCounts struct {
	PracticeEvents int64
	Preferences    int64
	ChordCharts    int64
	RoutineItems   int64
	Routines       int64
	Items          int64
}
