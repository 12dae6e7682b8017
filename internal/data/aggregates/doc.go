// Package aggregates implements the domain aggregate contracts on gorm.
//
// Write operations own their transaction boundaries and guard concurrent writers with a
// compare-and-swap on the revision column.
package aggregates
