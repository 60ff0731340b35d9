// Package core holds the pure part of the Lenmed import: parsing the flat
// CSV extract and normalizing it into hospitals, doctors and the
// doctor/hospital association set.
//
// Nothing in this package performs I/O beyond reading the supplied
// io.Reader, so it is shared unchanged by the live writer, the SQL emitter
// and tests.
//
// # Pipeline
//
//  1. [ParseRecords] reads the extract into ordered [RawRecord] values
//  2. [ExtractHospitals], [ExtractDoctors] and [ExtractLinks] derive the
//     deduplicated entity and link sets (first occurrence wins)
//  3. [Normalize] bundles the three into a [Dataset] for a writer
//
// # Error Handling
//
// Parse problems are returned as [*ParseError] and abort the run; there is
// no partial parse. [MapError] turns any pipeline error into a coded
// [UserMessage] for the operator.
package core
