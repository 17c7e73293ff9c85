package main

import (
	"log"
	_ "net/http/pprof" // register the /debug/pprof handlers
)

func main() {
	startWithDig()
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
