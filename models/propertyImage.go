package models

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/propdesk/brokerage_backend/config"
	"github.com/propdesk/brokerage_backend/utils"
	"gorm.io/gorm"
)

const listingStoragePath = "listings/"

type PropertyImage struct {
	ID           int       `gorm:"primary_key" json:"id"`
	PropertyId   int       `gorm:"not null;index" json:"property_id"`
	ImageUrl     string    `gorm:"size:500;not null" json:"image_url"`
	ThumbnailUrl string    `gorm:"size:500" json:"thumbnail_url"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type UploadResponse struct {
	ImageUrl     string `json:"image_url"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

// UploadListingImage stores the original image plus a generated thumbnail
// and returns the public URLs. The caller references the URLs from a
// listing create or update afterwards.
func UploadListingImage(ctx context.Context, filename string, file io.Reader) (*UploadResponse, error) {
	if !utils.GCSConfigured() {
		return nil, errors.New("image storage is not configured")
	}
	if file == nil {
		return nil, errors.New("nil file provided")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		return nil, utils.ValidationError("unsupported image extension: %s", ext)
	}

	uniqueFilename := utils.GenerateUniqueFilename() + ext
	originalObjectName := filepath.Join(listingStoragePath, uniqueFilename)
	thumbnailObjectName := filepath.Join(listingStoragePath, "thumbnails", uniqueFilename)

	if err := utils.UploadBytesToGCS(ctx, originalObjectName, data, "image/jpeg"); err != nil {
		return nil, err
	}

	thumbnailData, err := generateThumbnail(data)
	if err != nil {
		return nil, err
	}
	if err := utils.UploadBytesToGCS(ctx, thumbnailObjectName, thumbnailData, "image/jpeg"); err != nil {
		return nil, err
	}

	return &UploadResponse{
		ImageUrl:     getCloudURL(originalObjectName),
		ThumbnailUrl: getCloudURL(thumbnailObjectName),
	}, nil
}

// RemoveListingImage deletes an orphaned image and its thumbnail from the
// bucket. Images still referenced by a gallery row or a property cannot be
// removed.
func RemoveListingImage(ctx context.Context, fullUrl string) error {
	db := config.GetDB()

	var count int64
	if err := db.WithContext(ctx).Model(&PropertyImage{}).Where("image_url = ?", fullUrl).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		if err := db.WithContext(ctx).Model(&Property{}).Where("image_url = ?", fullUrl).Count(&count).Error; err != nil {
			return err
		}
	}
	if count > 0 {
		return errors.New("cannot delete image associated with a listing")
	}

	objectName := extractObjectName(fullUrl)
	if objectName == "" {
		return errors.New("invalid url")
	}
	if ok, err := utils.ObjectExistsInGCS(ctx, objectName); !ok || err != nil {
		return errors.New("object does not exist")
	}

	if err := utils.DeleteImageFromGCS(ctx, objectName); err != nil {
		return err
	}
	dir, filename := filepath.Split(objectName)
	thumbnailObjectName := filepath.Join(dir, "thumbnails", filename)
	return utils.DeleteImageFromGCS(ctx, thumbnailObjectName)
}

// AttachPropertyImages replaces the gallery rows for a listing.
func AttachPropertyImages(tx *gorm.DB, propertyId int, urls []*UploadResponse) ([]*PropertyImage, error) {
	if err := tx.Where("property_id = ?", propertyId).Delete(&PropertyImage{}).Error; err != nil {
		return nil, err
	}
	images := make([]*PropertyImage, 0, len(urls))
	for _, u := range urls {
		images = append(images, &PropertyImage{
			PropertyId:   propertyId,
			ImageUrl:     u.ImageUrl,
			ThumbnailUrl: u.ThumbnailUrl,
		})
	}
	if len(images) == 0 {
		return images, nil
	}
	if err := tx.Create(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

func ListPropertyImages(ctx context.Context, propertyId int) ([]*PropertyImage, error) {
	db := config.GetDB()
	var images []*PropertyImage
	err := db.WithContext(ctx).
		Where("property_id = ?", propertyId).
		Order("id").
		Find(&images).Error
	return images, err
}

func getCloudURL(objectName string) string {
	return "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/" + objectName
}

func extractObjectName(cloudUrl string) string {
	baseUrl := "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/"
	objectName, found := strings.CutPrefix(cloudUrl, baseUrl)
	if !found {
		return ""
	}
	return objectName
}

func generateThumbnail(originalData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(originalData))
	if err != nil {
		return nil, err
	}

	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var thumbnailBuffer bytes.Buffer
	err = imaging.Encode(&thumbnailBuffer, thumbnail, imaging.JPEG)
	if err != nil {
		return nil, err
	}
	return thumbnailBuffer.Bytes(), nil
}
