package main

import (
	_ "time/tzdata"

	"github.com/corray333/labshop/internal/app/notifierapp"
	"github.com/corray333/labshop/internal/config"
)

func main() {
	config.MustInit()
	notifierapp.MustNewApp().Run()
}
