// Package all registers every built-in stage with the default module
// registry. Import it for its side effects.
package all

import (
	_ "github.com/drblury/servoflow/module/stages/serial"
	_ "github.com/drblury/servoflow/module/stages/servo"
)
