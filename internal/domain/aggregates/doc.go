// Package aggregates defines the persistence contracts of the course builder and the
// typed error model shared by every layer.
//
// Contracts avoid storage details; implementations live in internal/data/aggregates.
package aggregates
