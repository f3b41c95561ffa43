package mocks

//go:generate mockgen -destination allocator.go -package mocks github.com/vkngwrapper/workbench/memutils Allocator
