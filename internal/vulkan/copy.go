package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/hbm"
)

// Copies run on the provider's transfer queue as one-shot submissions: the
// shared command buffer is reset, recorded, submitted, and the queue is
// drained before returning. The engine serializes all operations, so the
// single command buffer is never in flight twice.

func (p *Provider) beginCopy() (core1_0.CommandBuffer, error) {
	if _, err := p.commandBuffer.Reset(0); err != nil {
		return nil, errors.Wrap(err, "resetting transfer command buffer")
	}

	_, err := p.commandBuffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "beginning transfer command buffer")
	}

	return p.commandBuffer, nil
}

func (p *Provider) submitCopy(commandBuffer core1_0.CommandBuffer) error {
	if _, err := commandBuffer.End(); err != nil {
		return errors.Wrap(err, "ending transfer command buffer")
	}

	_, err := p.queue.Submit(nil, []core1_0.SubmitInfo{
		{CommandBuffers: []core1_0.CommandBuffer{commandBuffer}},
	})
	if err != nil {
		return errors.Wrap(err, "submitting transfer")
	}

	if _, err := p.queue.WaitIdle(); err != nil {
		return errors.Wrap(err, "waiting for transfer")
	}

	return nil
}

// transitionImage moves an image into the given layout for transfer access.
func transitionImage(commandBuffer core1_0.CommandBuffer, o *object, newLayout core1_0.ImageLayout) error {
	if o.image == nil || o.imageLayout == newLayout {
		return nil
	}

	err := commandBuffer.CmdPipelineBarrier(
		core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, 0,
		nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       core1_0.AccessMemoryWrite,
				DstAccessMask:       core1_0.AccessTransferRead | core1_0.AccessTransferWrite,
				OldLayout:           o.imageLayout,
				NewLayout:           newLayout,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               o.image,
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask: core1_0.ImageAspectColor,
					LevelCount: 1,
					LayerCount: 1,
				},
			},
		})
	if err != nil {
		return errors.Wrap(err, "recording image barrier")
	}

	o.imageLayout = newLayout
	return nil
}

// CopyBuffer copies bytes between two buffer-backed objects.
func (p *Provider) CopyBuffer(dst, src hbm.Object, region *hbm.BufferCopy) error {
	dstObj := dst.(*object)
	srcObj := src.(*object)

	if dstObj.buffer == nil || srcObj.buffer == nil {
		return errors.New("buffer copy requires buffer-backed objects")
	}

	commandBuffer, err := p.beginCopy()
	if err != nil {
		return err
	}

	err = commandBuffer.CmdCopyBuffer(srcObj.buffer, dstObj.buffer, []core1_0.BufferCopy{
		{
			SrcOffset: int(region.SrcOffset),
			DstOffset: int(region.DstOffset),
			Size:      int(region.Size),
		},
	})
	if err != nil {
		return errors.Wrap(err, "recording buffer copy")
	}

	return p.submitCopy(commandBuffer)
}

// CopyBufferImage copies one plane rectangle between an image-backed object
// and a linear staging buffer. Which side is the image follows from the
// copy direction.
func (p *Provider) CopyBufferImage(dst, src hbm.Object, region *hbm.BufferImageCopy) error {
	dstObj := dst.(*object)
	srcObj := src.(*object)

	commandBuffer, err := p.beginCopy()
	if err != nil {
		return err
	}

	copyRegion := core1_0.BufferImageCopy{
		BufferOffset: int(region.Offset),
		// BufferRowLength is in texels, not bytes, and covers the full
		// staging plane pitch; a rectangle narrower than the plane still
		// steps whole rows.
		BufferRowLength:   int(region.RowLength),
		BufferImageHeight: int(region.Height),
		ImageSubresource: core1_0.ImageSubresourceLayers{
			AspectMask: core1_0.ImageAspectColor,
			LayerCount: 1,
		},
		ImageOffset: core1_0.Offset3D{X: int(region.X), Y: int(region.Y)},
		ImageExtent: core1_0.Extent3D{Width: int(region.Width), Height: int(region.Height), Depth: 1},
	}

	switch {
	case dstObj.image != nil && srcObj.buffer != nil:
		if err := transitionImage(commandBuffer, dstObj, core1_0.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
		err = commandBuffer.CmdCopyBufferToImage(srcObj.buffer, dstObj.image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.BufferImageCopy{copyRegion})
	case srcObj.image != nil && dstObj.buffer != nil:
		if err := transitionImage(commandBuffer, srcObj, core1_0.ImageLayoutTransferSrcOptimal); err != nil {
			return err
		}
		err = commandBuffer.CmdCopyImageToBuffer(srcObj.image, core1_0.ImageLayoutTransferSrcOptimal, dstObj.buffer, []core1_0.BufferImageCopy{copyRegion})
	default:
		return errors.New("buffer-image copy requires one image-backed and one buffer-backed object")
	}
	if err != nil {
		return errors.Wrap(err, "recording buffer-image copy")
	}

	return p.submitCopy(commandBuffer)
}
