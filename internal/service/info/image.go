package info

import (
	"crypto/sha1" //nolint:gosec // Display only.
	"encoding/hex"
	"fmt"
	"io"

	"github.com/oshokin/avb-guard/internal/avb"
)

// printer accumulates the first write error so callers check once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}

	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// DescribeImage prints the footer, header and descriptors of an image in
// the layout of avbtool info_image.
func DescribeImage(w io.Writer, data []byte) error {
	img, err := avb.ParseImage(data)
	if err != nil {
		return err
	}

	p := &printer{w: w}

	if img.Footer != nil {
		p.printf("Footer version:           %d.%d\n", img.Footer.VersionMajor, img.Footer.VersionMinor)
		p.printf("Image size:               %d bytes\n", len(data))
		p.printf("Original image size:      %d bytes\n", img.Footer.OriginalImageSize)
		p.printf("VBMeta offset:            %d\n", img.Footer.VbmetaOffset)
		p.printf("VBMeta size:              %d bytes\n", img.Footer.VbmetaSize)
		p.printf("--\n")
	}

	vb := img.Vbmeta
	if vb == nil {
		p.printf("No AVB metadata, %d raw bytes\n", len(data))
		return p.err
	}

	p.printf("Algorithm:                %s\n", vb.Algorithm)
	p.printf("Rollback Index:           %d\n", vb.RollbackIndex)
	p.printf("Rollback Index Location:  %d\n", vb.RollbackIndexLocation)
	p.printf("Flags:                    %d\n", vb.Flags)
	p.printf("Release String:           '%s'\n", vb.ReleaseString)

	if len(vb.PublicKey) > 0 {
		p.printf("Public key (sha1):        %s\n", keyDigest(vb.PublicKey))
	}

	p.printf("Descriptors:\n")

	for _, d := range vb.Descriptors {
		describeDescriptor(p, d)
	}

	return p.err
}

func describeDescriptor(p *printer, d avb.Descriptor) {
	switch desc := d.(type) {
	case *avb.PropertyDescriptor:
		p.printf("    Prop: %s -> '%s'\n", desc.Key, desc.Value)
	case *avb.HashDescriptor:
		p.printf("    Hash descriptor:\n")
		p.printf("      Image Size:            %d bytes\n", desc.ImageSize)
		p.printf("      Hash Algorithm:        %s\n", desc.HashAlgorithm)
		p.printf("      Partition Name:        %s\n", desc.PartitionName)
		p.printf("      Salt:                  %s\n", hex.EncodeToString(desc.Salt))
		p.printf("      Digest:                %s\n", hex.EncodeToString(desc.Digest))
		p.printf("      Flags:                 %d\n", desc.Flags)
	case *avb.HashtreeDescriptor:
		p.printf("    Hashtree descriptor:\n")
		p.printf("      Version of dm-verity:  %d\n", desc.DMVerityVersion)
		p.printf("      Image Size:            %d bytes\n", desc.ImageSize)
		p.printf("      Tree Offset:           %d\n", desc.TreeOffset)
		p.printf("      Tree Size:             %d bytes\n", desc.TreeSize)
		p.printf("      Data Block Size:       %d bytes\n", desc.DataBlockSize)
		p.printf("      Hash Block Size:       %d bytes\n", desc.HashBlockSize)
		p.printf("      FEC num roots:         %d\n", desc.FECNumRoots)
		p.printf("      Hash Algorithm:        %s\n", desc.HashAlgorithm)
		p.printf("      Partition Name:        %s\n", desc.PartitionName)
		p.printf("      Salt:                  %s\n", hex.EncodeToString(desc.Salt))
		p.printf("      Root Digest:           %s\n", hex.EncodeToString(desc.RootDigest))
		p.printf("      Flags:                 %d\n", desc.Flags)
	case *avb.ChainPartitionDescriptor:
		p.printf("    Chain Partition descriptor:\n")
		p.printf("      Partition Name:          %s\n", desc.PartitionName)
		p.printf("      Rollback Index Location: %d\n", desc.RollbackIndexLocation)
		p.printf("      Public key (sha1):       %s\n", keyDigest(desc.PublicKey))
		p.printf("      Flags:                   %d\n", desc.Flags)
	default:
		p.printf("    Unknown descriptor (tag %d)\n", d.Tag())
	}
}

// keyDigest identifies a key blob the way avbtool does.
func keyDigest(blob []byte) string {
	sum := sha1.Sum(blob) //nolint:gosec // Display only, matches avbtool output.

	return hex.EncodeToString(sum[:])
}
