package protocol

// CRC16 is the CCITT variant used to guard frames, seeded with 0xFFFF and
// processed a byte at a time without a lookup table.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= byte(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}
