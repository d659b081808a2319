// Package things registers every replicated object kind on a host.
package things

import (
	"fmt"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/scene"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/loopie"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/performer"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things/viewpoint"
)

var kindNames = map[distributed.Kind]string{
	viewpoint.Kind: "viewpoint",
	performer.Kind: "performer",
	loopie.Kind:    "loopie",
}

// RegisterAll wires every kind's Create and message handlers into h.
func RegisterAll(h *distributed.Host) {
	viewpoint.Register(h)
	performer.Register(h)
	loopie.Register(h)
}

// Catalog returns a factory holding a prototype for every kind.
func Catalog() *scene.Catalog {
	c := scene.NewCatalog()
	for kind, name := range kindNames {
		c.Register(kind, scene.Prototype{Name: name})
	}
	return c
}

func KindName(kind distributed.Kind) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", kind)
}
