package controller

import (
	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/bridge"
	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/structure"
)

// Structure returns a copy of the block structure of a known device.
func (c *Controller) Structure(id string) (*structure.Structure, error) {
	var out *structure.Structure
	err := c.call(func() error {
		rec, ok := c.registry.Get(id)
		if !ok {
			return device.Errorf(device.UnknownDevice, "%s was never discovered", id)
		}
		out = rec.Structure.Clone()
		return nil
	})
	return out, err
}

// RotateStructure turns the structure of a known device by angles, each a multiple of 90 degrees.
func (c *Controller) RotateStructure(id string, angles structure.Vec3) error {
	return c.call(func() error {
		rec, ok := c.registry.Get(id)
		if !ok {
			return device.Errorf(device.UnknownDevice, "%s was never discovered", id)
		}
		return rec.Structure.Rotate(angles)
	})
}

// SaveStructure writes the structure of a known device to path, or to the structure
// directory when path is empty, and reports onStructureSaved. It returns the path written.
func (c *Controller) SaveStructure(id, path string) (string, error) {
	snapshot, err := c.Structure(id)
	if err != nil {
		return "", err
	}

	written, err := c.store.Save(snapshot, path)
	if err != nil {
		c.logger.WithError(err).WithField("device", id).Warn("Failed to save structure")
		return "", err
	}

	c.logger.WithFields(logrus.Fields{
		"device":    id,
		"structure": snapshot.ID,
		"path":      written,
		"blocks":    snapshot.Len(),
	}).Info("Structure saved")
	c.post(func() { c.publish(bridge.StructureSaved(id, snapshot.ID, written)) })
	return written, nil
}

// LoadStructure replaces the structure of a known device with a saved one and reports
// onStructureLoaded. ref is a file path or a structure id in the structure directory.
func (c *Controller) LoadStructure(id, ref string) (*structure.Structure, error) {
	loaded, path, err := c.store.Load(ref)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"device": id, "ref": ref}).Warn("Failed to load structure")
		return nil, err
	}

	var out *structure.Structure
	err = c.call(func() error {
		rec, ok := c.registry.Get(id)
		if !ok {
			return device.Errorf(device.UnknownDevice, "%s was never discovered", id)
		}
		loaded.Device = id
		rec.Structure = loaded
		out = loaded.Clone()
		c.logger.WithFields(logrus.Fields{
			"device":    id,
			"structure": loaded.ID,
			"path":      path,
			"blocks":    loaded.Len(),
		}).Info("Structure loaded")
		c.publish(bridge.StructureLoaded(id, loaded.ID, path))
		return nil
	})
	return out, err
}
