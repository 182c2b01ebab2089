package cfg

// StrictBool is a flag.Value that is true only for the exact string "true".
// Any other value, including "TRUE" and "1", reads as false without error.
type StrictBool bool

func (b *StrictBool) Set(s string) error {
	*b = s == "true"
	return nil
}

func (b *StrictBool) String() string {
	if b != nil && *b {
		return "true"
	}
	return "false"
}

// IsBoolFlag lets a bare -build-zip mean true.
func (b *StrictBool) IsBoolFlag() bool { return true }

func (b StrictBool) Bool() bool { return bool(b) }
