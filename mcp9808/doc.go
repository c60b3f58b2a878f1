// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.
//
// mcp9808 provides a package for interfacing a Microchip MCP9808 I2C
// temperature sensor.
//
// Range: -40°C - 125°C
//
// Accuracy: +/- 0.25°C (typical)
//
// Resolution: configured to 0.125°C
//
// A Session binds to a sensor address, configures the conversion resolution
// and registers itself with a Registrar, which exposes a text reading of the
// form "23.1250\n" to callers. Unbind releases everything Bind acquired, in
// reverse order.
//
// For detailed information, refer to the [datasheet].
//
// [datasheet]: https://ww1.microchip.com/downloads/en/DeviceDoc/25095A.pdf
package mcp9808
