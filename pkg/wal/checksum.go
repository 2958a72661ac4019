package wal

import "hash/crc32"

// castagnoliTable backs both header_crc32c and data_crc32c (spec §6:
// "row_v12 ... Both CRCs must validate on read").
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CalculateCRC32 computes the CRC32C checksum of data.
func CalculateCRC32(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// ValidateCRC32 reports whether data matches the expected checksum.
func ValidateCRC32(data []byte, expected uint32) bool {
	return CalculateCRC32(data) == expected
}
