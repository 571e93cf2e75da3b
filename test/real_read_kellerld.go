package main

import (
	"fmt"
	"time"

	"github.com/b3nn0/kellerld/sensors/kellerld"
	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
)

func main() {
	if err := embd.InitI2C(); err != nil {
		panic(err)
	}
	defer embd.CloseI2C()

	i2cbus := embd.NewI2CBus(1)
	ld := kellerld.New(i2cbus, kellerld.Address, nil)

	date, err := ld.GetCalibration()
	if err != nil {
		panic(err)
	}
	cal := ld.Calibration()
	fmt.Printf("# calibrated %s, %s, %.3f..%.3f bar\n", date, cal.Mode, *cal.MinPressure, *cal.MaxPressure)

	fmt.Println("temp,press,depth")

	clock := time.NewTicker(time.Second)
	for range clock.C {
		m, err := ld.Read()
		if err != nil {
			fmt.Printf("# %v\n", err)
			continue
		}
		fmt.Printf("%4.2f,%3.5f,%3.3f\n", m.Temperature, m.Pressure, m.Depth())
	}
}
