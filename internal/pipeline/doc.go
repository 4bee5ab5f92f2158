// Package pipeline runs tracked jobs. A Runner gives every run its own
// progress.Tracker and turns the run's lifecycle into events; RunStages gives
// every stage its weighted range of one root scope; CharacterBuild is the
// headless character build expressed as such stages.
package pipeline
