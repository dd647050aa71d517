// Package main trains the person/car indicator on a COCO style dataset and
// writes the float SavedModel directory that convert_model quantizes.
//
// Usage:
//
//	train_person_car -i train2017 -a instances_train2017.json [-config train.yaml] [-o models/saved_model]
package main
