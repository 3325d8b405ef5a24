// gridsheet-server hosts a shared spreadsheet over websockets. Every
// connected client sends engine commands; executed commands are rebroadcast
// to all clients, and the sheet autosaves to a SQL store.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/NYTimes/gziphandler"

	"github.com/gridsheet/gridsheet/store"
)

var (
	addr      = flag.String("addr", ":8080", "http service address")
	staticDir = flag.String("static", "static/", "static file directory")
	dbDriver  = flag.String("driver", "sqlite3", "database driver (sqlite3 or mysql)")
	dbDSN     = flag.String("dsn", "db/gridsheet.db", "database data source name")
	sheetName = flag.String("sheet", "default", "name of the sheet to host")
)

func main() {
	flag.Parse()

	st, err := store.Open(*dbDriver, *dbDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	hub := newHub(st, *sheetName)
	go hub.run()

	http.Handle("/", gziphandler.GzipHandler(http.FileServer(http.Dir(*staticDir))))
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	log.Println("listening on", *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
