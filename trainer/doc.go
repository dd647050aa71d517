// Package trainer runs the epochs that fit the person/car network to a
// batch source, evaluates it on validation batches and reports every epoch.
package trainer
