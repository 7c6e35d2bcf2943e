package ir

import (
	"fmt"
	"time"
)

// MessageType distinguishes the four messages sent to the consumer.
type MessageType string

const (
	// MessageAccess reports that a document finished loading in a tab.
	MessageAccess MessageType = "Access"
	// MessageLeave reports that a previously accessed document went away.
	MessageLeave MessageType = "Leave"
	// MessageActiveTabs carries the per-URL active seconds of one interval.
	MessageActiveTabs MessageType = "ActiveTabs"
	// MessageDownload reports a completed download.
	MessageDownload MessageType = "Download"
)

// Message is one event sent over the consumer channel. Exactly the fields
// belonging to Type are set.
type Message struct {
	Type         MessageType        `json:"type"`
	DocumentInfo *Document          `json:"documentInfo,omitempty"`
	TabID        *int               `json:"tabid,omitempty"`
	Info         map[string]float64 `json:"info,omitempty"` // URL -> active seconds
	Item         *DownloadItem      `json:"item,omitempty"`
}

// NewAccess builds an Access message carrying a copy of doc.
func NewAccess(doc Document) Message {
	return Message{Type: MessageAccess, DocumentInfo: &doc}
}

// NewLeave builds a Leave message for tabID carrying a copy of doc.
func NewLeave(tabID int, doc Document) Message {
	return Message{Type: MessageLeave, TabID: &tabID, DocumentInfo: &doc}
}

// NewActiveTabs builds an ActiveTabs message from accumulated durations.
func NewActiveTabs(active map[string]time.Duration) Message {
	info := make(map[string]float64, len(active))
	for key, d := range active {
		info[key] = d.Seconds()
	}
	return Message{Type: MessageActiveTabs, Info: info}
}

// NewDownload builds a Download message carrying a copy of item.
func NewDownload(item DownloadItem) Message {
	return Message{Type: MessageDownload, Item: &item}
}

// Validate checks that the fields required by the message type are present.
func (m Message) Validate() error {
	switch m.Type {
	case MessageAccess:
		if m.DocumentInfo == nil {
			return fmt.Errorf("%s: documentInfo is required", m.Type)
		}
	case MessageLeave:
		if m.TabID == nil || m.DocumentInfo == nil {
			return fmt.Errorf("%s: tabid and documentInfo are required", m.Type)
		}
	case MessageActiveTabs:
		if m.Info == nil {
			return fmt.Errorf("%s: info is required", m.Type)
		}
	case MessageDownload:
		if m.Item == nil {
			return fmt.Errorf("%s: item is required", m.Type)
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// Canonical converts the message to an IRObject for canonical encoding.
// Active seconds become integer milliseconds so the encoding stays
// float-free.
func (m Message) Canonical() IRObject {
	obj := IRObject{"type": IRString(m.Type)}
	if m.DocumentInfo != nil {
		obj["documentInfo"] = m.DocumentInfo.canonical()
	}
	if m.TabID != nil {
		obj["tabid"] = IRInt(*m.TabID)
	}
	if m.Info != nil {
		info := make(IRObject, len(m.Info))
		for key, secs := range m.Info {
			info[key] = IRInt(time.Duration(secs * float64(time.Second)).Round(time.Millisecond).Milliseconds())
		}
		obj["info"] = info
	}
	if m.Item != nil {
		obj["item"] = m.Item.canonical()
	}
	return obj
}

func (d Document) canonical() IRObject {
	return IRObject{
		"id":         IRInt(d.ID),
		"url":        IRString(d.URL),
		"title":      IRString(d.Title),
		"referrer":   IRString(d.Referrer),
		"windowId":   IRInt(d.WindowID),
		"index":      IRInt(d.Index),
		"pid":        IRInt(d.PID),
		"sentAccess": IRBool(d.SentAccess),
	}
}

func (i DownloadItem) canonical() IRObject {
	return IRObject{
		"id":         IRInt(i.ID),
		"url":        IRString(i.URL),
		"referrer":   IRString(i.Referrer),
		"filename":   IRString(i.Filename),
		"mime":       IRString(i.Mime),
		"startTime":  IRString(i.StartTime),
		"endTime":    IRString(i.EndTime),
		"state":      IRString(i.State),
		"danger":     IRString(i.Danger),
		"totalBytes": IRInt(i.TotalBytes),
		"fileSize":   IRInt(i.FileSize),
	}
}
