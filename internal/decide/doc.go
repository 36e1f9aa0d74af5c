// Package decide turns raw readings into gate.Decision verdicts.
//
// ThresholdEngine judges a carbon-intensity sample against the mean plus one
// sample standard deviation of the recent readings. DrawDecider judges the
// power draw of a single named device against a fixed watt threshold.
package decide
