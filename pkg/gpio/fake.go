package gpio

// FakeIndicator is an in-memory IndicatorPin for tests and host-independent
// simulation; it has no periph.io dependency.
type FakeIndicator struct {
	On bool
}

func (f *FakeIndicator) Set(on bool) error {
	f.On = on
	return nil
}

// FakeButton is an in-memory ButtonPin for tests.
type FakeButton struct {
	IsPressed bool
}

func (f *FakeButton) Pressed() (bool, error) {
	return f.IsPressed, nil
}
