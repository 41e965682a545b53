package main

import (
	_ "time/tzdata"

	"github.com/corray333/labshop/internal/app/orderapp"
	"github.com/corray333/labshop/internal/config"
)

func main() {
	config.MustInit()
	orderapp.MustNewApp().Run()
}
