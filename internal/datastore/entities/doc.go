// Package entities defines the GORM models for voter records, surname
// mappings and the upload ledger.
//
// # Voter data
//
//   - Voter: one registration record keyed by its natural voter id
//   - SurnameMapping: surname to caste category lookup table
//
// # Upload ledger
//
//   - UploadJob: one entry per imported file
//   - UploadChunk: one reported batch result per (upload, chunk index)
//   - UploadUnresolvedSurname: surnames seen without a mapping
package entities
