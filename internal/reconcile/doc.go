// Package reconcile collapses, expands and classifies calendar appointments
// before they are archived.
//
// The pipeline is: normalize timestamps to UTC, expand recurring templates into
// daily instances, merge duplicates, cluster overlapping appointments and tag
// each cluster member with the cluster's canonical appointment. Every step is a
// pure function over its input and returns new records.
package reconcile
