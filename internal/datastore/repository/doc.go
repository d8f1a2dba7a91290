// Package repository provides GORM-backed repositories for voters, surname
// mappings and the upload ledger. Every voter write is an upsert on voter_id.
package repository
