// Package window implements windowing constructs. In the world of data processing on an unbounded stream, Windowing
// is a concept of grouping data using temporal boundaries. We use event-time to discover temporal boundaries on an
// unbounded, infinite stream and Watermark to ensure the datasets within the boundaries are complete. A grouping or
// combine function can be applied on this group of data.
//
// Windowing is implemented as a two stage process,
//   - Assign windows - assign the event to one or more windows based only on its event time
//   - Merge windows - group all the events that belong to the same window
//
// The two stage approach is required because assignment of windows happens as elements are streaming in, but merging
// can only happen before the data materialization happens. This is important esp. when we handle session windows where
// a new event can change the end time of the window.
//
// Windows may be either aligned (e.g., Fixed, Sliding), i.e. applied across all the data for the window of time in
// question, or unaligned, (e.g., Session) i.e. applied across only specific subsets of the data (e.g. per key) for the
// given window of time.
package window
