// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp9808

// Decode converts a temperature register frame into a reading. The alert
// flags in the top three bits are ignored; use Frame.Flags to read them.
//
// The fractional byte is scaled before it is divided, otherwise the
// sixteenths would be truncated away.
func Decode(f Frame) Temperature {
	hi := int32(f.Hi & 0x1f)
	lo := int32(f.Lo)
	if hi&0x10 == 0 {
		return Temperature(hi*16*scale + lo*scale/16)
	}
	hi &= 0x0f
	return Temperature(-(hi*16*scale + lo*scale/16))
}
