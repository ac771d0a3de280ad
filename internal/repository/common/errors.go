package common

import "errors"

// Базовые ошибки хранилищ. Репозитории оборачивают их в свои sentinel'ы,
// поэтому errors.Is находит как частную ошибку, так и общую категорию.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
)
