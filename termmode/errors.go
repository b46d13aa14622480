package termmode

import "errors"

var errNilState = errors.New("termmode: nil state")
