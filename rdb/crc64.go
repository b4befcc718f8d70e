package rdb

// CRC-64 with the Jones polynomial, reflected input and output, zero init
// and no final xor. This is the exact checksum Redis appends to RDB files
// (src/crc64.c), so snapshots produced here verify against real tooling.

const crc64Poly = 0x95ac9329ac4bc9b5 // Jones polynomial, bit-reversed

var crc64Table = makeCRC64Table()

func makeCRC64Table() [256]uint64 {
	var table [256]uint64
	for i := 0; i < 256; i++ {
		crc := uint64(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc64Poly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// crc64Update extends the running checksum with data
func crc64Update(crc uint64, data []byte) uint64 {
	for _, b := range data {
		crc = crc64Table[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}
