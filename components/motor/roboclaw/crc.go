package roboclaw

// crc16 is the CRC16-CCITT (XModem) checksum the controller appends to packets:
// polynomial 0x1021, initial value 0, no reflection.
func crc16(data ...[]byte) uint16 {
	var crc uint16
	for _, chunk := range data {
		for _, b := range chunk {
			crc ^= uint16(b) << 8
			for bit := 0; bit < 8; bit++ {
				if crc&0x8000 != 0 {
					crc = crc<<1 ^ 0x1021
				} else {
					crc <<= 1
				}
			}
		}
	}
	return crc
}
