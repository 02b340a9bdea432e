package main

import (
	"strconv"
	"strings"

	"mssql2pg/internal/config"
)

// defaultChoice is used when the menu answer is empty or not an option.
const defaultChoice = "2"

var menuModes = map[string]string{
	"1": config.ModeSeed,
	"2": config.ModeMigrate,
	"3": config.ModeSeedMigrate,
	"4": config.ModeSpotCheck,
}

func (a *app) menu() string {
	a.printf("\nSQL Server -> PostgreSQL migrator\n")
	a.printf("  1) Seed source database\n")
	a.printf("  2) Migrate source to target\n")
	a.printf("  3) Seed, then migrate\n")
	a.printf("  4) Binary spot-check\n")
	a.printf("Choose [%s]: ", defaultChoice)

	mode, ok := menuModes[a.readLine()]
	if !ok {
		mode = menuModes[defaultChoice]
	}
	return mode
}

// askCount prompts for a product count. Empty, malformed and non-positive
// answers keep def.
func (a *app) askCount(def int) int {
	a.printf("Number of products [%d]: ", def)
	n, err := strconv.Atoi(strings.ReplaceAll(a.readLine(), ",", ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// confirm asks a yes/no question; anything but y or yes is no. -yes skips
// the prompt.
func (a *app) confirm(question string) bool {
	if a.cfg.AssumeYes {
		return true
	}
	a.printf("%s [y/N]: ", question)
	switch strings.ToLower(a.readLine()) {
	case "y", "yes":
		return true
	}
	return false
}

// readLine returns the next trimmed input line, or "" at EOF.
func (a *app) readLine() string {
	line, _ := a.in.ReadString('\n')
	return strings.TrimSpace(line)
}
