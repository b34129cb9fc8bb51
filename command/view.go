package command

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conductor/descriptor"
	"github.com/vkngwrapper/conductor/driver"
)

// ResourceKind is the closed set of resource shapes views can be created for
type ResourceKind uint32

const (
	KindBuffer ResourceKind = iota
	KindTexture1D
	KindTexture2D
	KindTexture3D
	KindRenderTarget
	KindDepthStencil
)

var resourceKindMapping = map[ResourceKind]string{
	KindBuffer:       "Buffer",
	KindTexture1D:    "Texture1D",
	KindTexture2D:    "Texture2D",
	KindTexture3D:    "Texture3D",
	KindRenderTarget: "RenderTarget",
	KindDepthStencil: "DepthStencil",
}

func (k ResourceKind) String() string {
	return resourceKindMapping[k]
}

type viewCapabilities struct {
	shaderResource  bool
	unorderedAccess bool
	constantBuffer  bool
	renderTarget    bool
	depthStencil    bool
}

var kindCapabilities = map[ResourceKind]viewCapabilities{
	KindBuffer:       {shaderResource: true, unorderedAccess: true, constantBuffer: true},
	KindTexture1D:    {shaderResource: true, unorderedAccess: true},
	KindTexture2D:    {shaderResource: true, unorderedAccess: true},
	KindTexture3D:    {shaderResource: true, unorderedAccess: true},
	KindRenderTarget: {shaderResource: true, unorderedAccess: true, renderTarget: true},
	KindDepthStencil: {shaderResource: true, depthStencil: true},
}

func (c viewCapabilities) supports(viewType driver.ViewType) bool {
	switch viewType {
	case driver.ViewShaderResource:
		return c.shaderResource
	case driver.ViewUnorderedAccess:
		return c.unorderedAccess
	case driver.ViewConstantBuffer:
		return c.constantBuffer
	case driver.ViewRenderTarget:
		return c.renderTarget
	case driver.ViewDepthStencil:
		return c.depthStencil
	default:
		return false
	}
}

// KindOf classifies a resource. Textures created with render target or depth stencil usage are
// classified by that usage rather than their dimension.
func KindOf(resource driver.Resource) (ResourceKind, error) {
	switch res := resource.(type) {
	case driver.Buffer:
		return KindBuffer, nil
	case driver.Texture:
		desc := res.Desc()
		switch {
		case desc.Usage&driver.UsageDepthStencil != 0:
			return KindDepthStencil, nil
		case desc.Usage&driver.UsageRenderTarget != 0:
			return KindRenderTarget, nil
		}

		switch desc.Dimension {
		case driver.TextureDimension1D:
			return KindTexture1D, nil
		case driver.TextureDimension2D:
			return KindTexture2D, nil
		case driver.TextureDimension3D:
			return KindTexture3D, nil
		}
		return 0, errors.Errorf("texture %s has unknown dimension %d", res.Name(), desc.Dimension)
	}

	return 0, errors.Errorf("resource %s is neither a buffer nor a texture", resource.Name())
}

// SupportsView returns true if views of viewType can be created for resources of this kind
func (k ResourceKind) SupportsView(viewType driver.ViewType) bool {
	return kindCapabilities[k].supports(viewType)
}

// View is a descriptor written into a CPU-visible descriptor page. The descriptor is kept alive
// until Release is called and the frame it was released in completes.
type View struct {
	device     *Device
	desc       driver.ViewDesc
	kind       ResourceKind
	allocation descriptor.Allocation
}

func (v *View) Desc() driver.ViewDesc              { return v.desc }
func (v *View) Kind() ResourceKind                 { return v.kind }
func (v *View) Resource() driver.Resource          { return v.desc.Resource }
func (v *View) Handle() driver.CPUDescriptorHandle { return v.allocation.Handle(0) }

// Subresource returns the subresource the view accesses: the view's mip slice for render target,
// depth stencil and unordered access views of textures with more than one subresource, and every
// subresource otherwise.
func (v *View) Subresource() uint32 {
	if v.desc.Resource == nil || v.desc.Resource.SubresourceCount() <= 1 {
		return driver.AllSubresources
	}

	switch v.desc.Type {
	case driver.ViewUnorderedAccess, driver.ViewRenderTarget, driver.ViewDepthStencil:
		return uint32(v.desc.MipSlice)
	default:
		return driver.AllSubresources
	}
}

// Release frees the view's descriptor. It will not be reused until the current frame completes.
func (v *View) Release() error {
	return v.allocation.Free(v.device.FrameNumber())
}
