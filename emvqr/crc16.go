package emvqr

import "fmt"

const crcPolynomial = 0x1021

// Checksum computes CRC-16/CCITT-FALSE over the UTF-8 bytes of input:
// initial register 0xFFFF, polynomial 0x1021, MSB first, no final XOR.
// The result is rendered as four uppercase hex digits.
func Checksum(input string) string {
	crc := 0xFFFF
	for _, b := range []byte(input) {
		crc ^= int(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
			crc &= 0xFFFF
		}
	}
	return fmt.Sprintf("%04X", crc)
}
