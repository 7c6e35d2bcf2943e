package engine

import "github.com/roach88/attend/internal/ir"

// Documents tracks the document loaded in each tab and decides when Access
// and Leave are due.
//
// A document is accessed once its renderer process is known and left when
// it is replaced or its tab closes. The SentAccess flag of each descriptor
// makes Access idempotent and suppresses a Leave for a document that never
// finished loading.
//
// Owned by the engine loop; not safe for concurrent use.
type Documents struct {
	byTab map[int]*ir.Document
}

// NewDocuments creates an empty table.
func NewDocuments() *Documents {
	return &Documents{byTab: make(map[int]*ir.Document)}
}

// Report registers doc as the document now loaded in tab. The previous
// document of the tab, if any, is left first; its Leave message is
// returned when one is due.
func (d *Documents) Report(doc ir.Document, tab ir.Tab) (ir.Message, bool) {
	leave, ok := d.Leave(tab.ID)
	doc.Place(tab)
	doc.PID = 0
	doc.SentAccess = false
	d.byTab[tab.ID] = &doc
	return leave, ok
}

// Resolve records the renderer process of the tab's document and returns
// its Access message. It returns false when no document is registered or
// access was already sent for it.
func (d *Documents) Resolve(tabID, pid int) (ir.Message, bool) {
	doc, ok := d.byTab[tabID]
	if !ok || doc.SentAccess {
		return ir.Message{}, false
	}
	doc.PID = pid
	doc.SentAccess = true
	return ir.NewAccess(*doc), true
}

// Leave forgets the tab's document and returns its Leave message. It returns
// false when the tab has no document or access was never sent for it.
func (d *Documents) Leave(tabID int) (ir.Message, bool) {
	doc, ok := d.byTab[tabID]
	if !ok {
		return ir.Message{}, false
	}
	delete(d.byTab, tabID)
	if !doc.SentAccess {
		return ir.Message{}, false
	}
	return ir.NewLeave(tabID, *doc), true
}

// Get returns a copy of the tab's document.
func (d *Documents) Get(tabID int) (ir.Document, bool) {
	doc, ok := d.byTab[tabID]
	if !ok {
		return ir.Document{}, false
	}
	return *doc, true
}

// Waiting reports whether the tab's document is registered but not yet
// accessed.
func (d *Documents) Waiting(tabID int) bool {
	doc, ok := d.byTab[tabID]
	return ok && !doc.SentAccess
}

// Len returns the number of tracked documents.
func (d *Documents) Len() int {
	return len(d.byTab)
}
