package main

import (
	"storyline/cmd/handlers"
	"storyline/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
