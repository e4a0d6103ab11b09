// reviewctl — консольный клиент SentinelForge: сессия, алерты,
// переопределение risk score, роли пользователей и журналы аудита.
package main

import (
	"os"

	"github.com/collinco2/sentinelforge-sub000/cmd/reviewctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
