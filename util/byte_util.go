package util

import "encoding/binary"

// 页面内的整数字段统一按大端序编码，
// 这样定长整数键可以直接按字节序比较

// ReadUB2Byte2Int 读取2字节无符号整数
func ReadUB2Byte2Int(buff []byte) uint16 {
	return binary.BigEndian.Uint16(buff)
}

// ReadUB4Byte2UInt32 读取4字节无符号整数
func ReadUB4Byte2UInt32(buff []byte) uint32 {
	return binary.BigEndian.Uint32(buff)
}

// ReadUB8Byte2ULong 读取8字节无符号整数
func ReadUB8Byte2ULong(buff []byte) uint64 {
	return binary.BigEndian.Uint64(buff)
}

// ConvertUInt2Bytes 将2字节无符号整数写入字节数组
func ConvertUInt2Bytes(value uint16) []byte {
	var buff [2]byte
	binary.BigEndian.PutUint16(buff[:], value)
	return buff[:]
}

// ConvertUInt4Bytes 将4字节无符号整数写入字节数组
func ConvertUInt4Bytes(value uint32) []byte {
	var buff [4]byte
	binary.BigEndian.PutUint32(buff[:], value)
	return buff[:]
}

// ConvertULong8Bytes 将8字节无符号整数写入字节数组
func ConvertULong8Bytes(value uint64) []byte {
	var buff [8]byte
	binary.BigEndian.PutUint64(buff[:], value)
	return buff[:]
}

// WriteUB2 在buff的offset处写入2字节无符号整数
func WriteUB2(buff []byte, offset int, value uint16) {
	binary.BigEndian.PutUint16(buff[offset:], value)
}

// WriteUB4 在buff的offset处写入4字节无符号整数
func WriteUB4(buff []byte, offset int, value uint32) {
	binary.BigEndian.PutUint32(buff[offset:], value)
}
