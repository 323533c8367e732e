// Package mmap provides read-only memory-mapped file access.
//
// Disk rowsets are immutable once written, so the local blob store maps them
// instead of reading through the page cache with pread.
//
//	m, err := mmap.Open("000001.rs")
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//
// On platforms without mmap(2) the file is read into memory instead.
package mmap
