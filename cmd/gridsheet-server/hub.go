package main

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gridsheet/gridsheet/formula"
	"github.com/gridsheet/gridsheet/sheet"
	"github.com/gridsheet/gridsheet/store"
)

// clientRequest is one parsed client message, executed on the hub
// goroutine so the engine is never touched concurrently.
type clientRequest struct {
	client *Client
	args   []string
}

// Hub owns the shared sheet. All engine access happens in run().
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	requests   chan clientRequest

	sheet     *sheet.Sheet
	store     *store.Store
	sheetName string
	dirty     bool
}

func newHub(st *store.Store, sheetName string) *Hub {
	h := &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan clientRequest, 256),
		clients:    make(map[*Client]bool),
		store:      st,
		sheetName:  sheetName,
	}
	h.sheet = loadOrCreateSheet(st, sheetName)
	h.sheet.Broadcast = func(event, command string) {
		h.queueBroadcast([]string{strings.ToUpper(event), command})
		h.dirty = true
	}
	return h
}

func loadOrCreateSheet(st *store.Store, name string) *sheet.Sheet {
	var s *sheet.Sheet
	if savetext, err := st.LoadSheet(name); err == nil {
		loaded, _, lerr := sheet.SheetFromSave(savetext)
		if lerr != nil {
			log.Println("stored sheet is unreadable, starting empty:", lerr)
		} else {
			s = loaded
		}
	}
	if s == nil {
		s = sheet.NewSheet()
	}
	s.Parser = formula.NewParser()
	s.Evaluator = formula.NewEvaluator()
	return s
}

func (h *Hub) queueBroadcast(args []string) {
	msg, err := json.Marshal(args)
	if err != nil {
		log.Println("marshal broadcast:", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Println("broadcast queue full, dropping message")
	}
}

func (h *Hub) run() {
	autosave := time.NewTicker(10 * time.Second)
	defer autosave.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Println("client registered:", client.id)
			client.sendJSON([]string{"SHEET", h.sheet.CreateSheetSave()})

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Println("client unregistered:", client.id)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}

		case req := <-h.requests:
			h.handleRequest(req)

		case <-autosave.C:
			h.saveIfDirty()
		}
	}
}

func (h *Hub) handleRequest(req clientRequest) {
	if len(req.args) == 0 {
		return
	}
	switch req.args[0] {
	case "EXECUTE":
		if len(req.args) < 2 {
			req.client.sendJSON([]string{"ERROR", "EXECUTE needs a command"})
			return
		}
		if err := h.sheet.ExecuteCommand(req.args[1], true); err != nil {
			req.client.sendJSON([]string{"ERROR", err.Error()})
		}
		h.recalcIfNeeded()

	case "UNDO":
		if err := h.sheet.UndoCommand(); err != nil {
			req.client.sendJSON([]string{"ERROR", err.Error()})
		} else {
			h.dirty = true
		}
		h.recalcIfNeeded()

	case "REDO":
		if err := h.sheet.RedoCommand(); err != nil {
			req.client.sendJSON([]string{"ERROR", err.Error()})
		} else {
			h.dirty = true
		}
		h.recalcIfNeeded()

	case "SHEET":
		req.client.sendJSON([]string{"SHEET", h.sheet.CreateSheetSave()})

	case "CSV":
		if len(req.args) < 3 {
			req.client.sendJSON([]string{"ERROR", "CSV needs a start coordinate and data"})
			return
		}
		if err := h.sheet.ImportCSV(req.args[2], req.args[1]); err != nil {
			req.client.sendJSON([]string{"ERROR", err.Error()})
		}
		h.recalcIfNeeded()

	case "SAVE":
		h.saveIfDirty()

	default:
		req.client.sendJSON([]string{"ERROR", "unknown request " + req.args[0]})
	}
}

func (h *Hub) recalcIfNeeded() {
	if !h.sheet.RecalcNeeded() || h.sheet.Attribs.RecalcOff {
		return
	}
	if err := h.sheet.RecalcSheet(); err != nil {
		log.Println("recalc:", err)
	}
}

func (h *Hub) saveIfDirty() {
	if !h.dirty {
		return
	}
	if err := h.store.SaveSheet(h.sheetName, h.sheet.CreateSheetSave()); err != nil {
		log.Println("autosave failed:", err)
		return
	}
	h.dirty = false
}
