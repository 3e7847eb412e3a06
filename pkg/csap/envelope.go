package csap

// Control 控制帧，声明后续用户控制帧与数据帧的长度
type Control struct {
	Op            string // 帧标记，JSON 为 "ctl"，定长帧为前 14 个字符
	UsrCtlSize    int64
	DataSize      int64
	Format        Format
	CorrelationID string // 仅定长帧携带
	Raw           []byte
}

// Next 根据声明的长度返回收到该控制帧后的下一个状态
func (c Control) Next() State {
	switch {
	case c.UsrCtlSize > 0:
		return StateUSRCTL
	case c.DataSize > 0:
		return StateDATA
	default:
		return StateCTL
	}
}

// UserControl 用户控制帧
type UserControl struct {
	Size    int64
	Payload []byte
}

// Data 数据帧
type Data struct {
	Size    int64
	Payload []byte
}

// String 以文本形式返回数据
func (d Data) String() string {
	return string(d.Payload)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
