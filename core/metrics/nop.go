package metrics

type nop struct{}

func (nop) Inc()             {}
func (nop) Add(float64)      {}
func (nop) Observe(float64)  {}
func (nop) ObserveDuration() {}

func NopCounter() Counter     { return nop{} }
func NopHistogram() Histogram { return nop{} }
func NopTimer() Timer         { return nop{} }
