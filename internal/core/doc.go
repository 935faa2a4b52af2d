// Package core provides the data model and transformation logic for pcode sync.
//
// This package is the heart of the service, containing all domain logic
// independent of any transport. It can be used by the CLI, the status server,
// or tests without modification.
//
// # Architecture
//
// The package is organized around the path a pcode dataset takes through a run:
//
//   - [CountryCodeMap]: country code to display name, parsed from a registry
//     extract by [ParseCodeMap].
//   - [PcodeTable]: the flat pcode dataset, validated once at load time by
//     [ReadPcodeTable] and partitioned per country.
//   - [FormBuilder]: turns a [CountryPartition] into a [FormDocument] with
//     survey, choices and settings rows.
//   - [DocumentWriter]: serializes a [FormDocument] into an .xlsx [Artifact].
//
// # Cascading Levels
//
// A partition whose deepest admin level is k yields k questions named
// level_1..level_k. Question level_n selects from choice list level_n and, for
// n > 1, filters it with
//
//	starts-with(name, ${level_(n-1)})
//
// so a flat table of pcodes renders as a drill-down hierarchy.
//
// # Error Handling
//
// Failures are typed (see errors.go) and mapped to coded operator messages by
// [MapError]:
//
//   - REG001: registry resolution
//   - DATA001-DATA005: pcode table and code map shape
//   - FILE001: artifact writes
//   - API001: publish platform responses
package core
