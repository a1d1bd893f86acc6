package trace

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 trace 事件的 CRC32 校驗和
// ============================================================================

import (
	"hash/crc32"
	"strconv"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 涵蓋 Checksum 以外的所有欄位，以 '|' 分隔後使用 CRC32-IEEE 計算
func CalculateChecksum(event Event) uint32 {
	buf := make([]byte, 0, 64)
	buf = strconv.AppendUint(buf, event.Seq, 10)
	buf = append(buf, '|')
	buf = append(buf, event.Type...)
	for _, v := range []int{event.JobID, event.Core, event.Time, event.Remaining} {
		buf = append(buf, '|')
		buf = strconv.AppendInt(buf, int64(v), 10)
	}
	return crc32.ChecksumIEEE(buf)
}

// VerifyChecksum 驗證事件的校驗和是否正確
func VerifyChecksum(event Event) bool {
	return event.Checksum == CalculateChecksum(event)
}
