package ident

// Allocator issues strictly increasing object ids scoped to one host token.
// The counter is never reset or reused; uint64 outlasts any session.
type Allocator struct {
	owner HostToken
	last  uint64
}

func NewAllocator(owner HostToken) *Allocator {
	if owner.IsZero() {
		panic("ident: allocator requires a host token")
	}
	return &Allocator{owner: owner}
}

func (a *Allocator) Owner() HostToken {
	return a.owner
}

// Next returns the next id. Only the owning host may call it.
func (a *Allocator) Next() ObjectID {
	a.last++
	return ObjectID{Owner: a.owner, Seq: a.last}
}

// Issued reports how many ids have been handed out.
func (a *Allocator) Issued() uint64 {
	return a.last
}
