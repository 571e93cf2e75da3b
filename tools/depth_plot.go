package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/b3nn0/kellerld/datalog"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

var (
	dbPath = flag.String("db", "/var/log/kellerld.db", "kellerd data log")
	window = flag.Duration("window", time.Hour, "how far back to plot")
	listen = flag.String("listen", ":8080", "address to serve the plot on")
)

func plotDepth(l *datalog.Log) error {
	start := time.Now().Add(-*window)
	rows, err := l.Since(start)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Depth"
	p.X.Label.Text = "Minutes"
	p.Y.Label.Text = "Metres"

	depth := make(plotter.XYs, len(rows))
	temp := make(plotter.XYs, len(rows))
	for i, r := range rows {
		t := r.Time.Sub(start).Minutes()
		depth[i].X, depth[i].Y = t, r.Depth
		temp[i].X, temp[i].Y = t, r.Temperature
	}
	if err := plotutil.AddLines(p, "Depth (m)", depth, "Temperature (C)", temp); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, "depth.png")
}

func imageWriter(l *datalog.Log) {
	for {
		if err := plotDepth(l); err != nil {
			fmt.Printf("plot: %s\n", err.Error())
		}
		time.Sleep(1000 * time.Millisecond)
	}
}

func main() {
	flag.Parse()

	l, err := datalog.Open(*dbPath, 0)
	if err != nil {
		panic(err)
	}
	defer l.Close()

	go imageWriter(l)
	http.Handle("/", http.FileServer(http.Dir(".")))
	err = http.ListenAndServe(*listen, nil)

	if err != nil {
		fmt.Printf("managementInterface ListenAndServe: %s\n", err.Error())
	}
}
