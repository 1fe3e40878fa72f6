// Package db ships the relational schema for the ratings store.
package db

import "embed"

// Migrations holds the ordered up/down SQL files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
