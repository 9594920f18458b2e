package cache

// Nop never stores anything.
type Nop struct{}

func (*Nop) Get(string) (any, bool)        { return nil, false }
func (*Nop) Put(string, any, ...PutOption) {}
func (*Nop) Delete(string)                 {}

func NewNop() *Nop { return &Nop{} }

var _ Cache = (*Nop)(nil)
