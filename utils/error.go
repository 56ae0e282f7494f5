package utils

import "errors"

var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrorDuplicateValue = errors.New("value already in use")
)
