// Package seed provides helpers to create demo data for the application database.
// These helpers are intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"campuspulse/internal/database"
	"campuspulse/internal/models"
	"campuspulse/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configures a seeding run.
type Options struct {
	NumUsers int
	NumPosts int
	// MaxDays bounds how far back post timestamps are spread.
	MaxDays int
	// Seed makes a run reproducible; zero picks a time-based seed.
	Seed int64
}

// Result summarizes what a run created.
type Result struct {
	Users    []*models.User
	Posts    []*models.Post
	Follows  int
	Likes    int
	Comments int
	Shares   int
	Chats    int
	Messages int
}

var (
	categories = map[string][]string{
		"sports":    {"football", "basketball", "track", "intramurals"},
		"arts":      {"film", "music", "theatre", "gallery"},
		"academics": {"cs", "math", "history", "biology"},
		"campus":    {"housing", "dining", "events", "clubs"},
	}
	categoryNames = []string{"sports", "arts", "academics", "campus"}
)

// Seeder writes demo data through the repositories so counters and trending
// scores stay consistent with what the live server would produce.
type Seeder struct {
	db    *gorm.DB
	fake  *gofakeit.Faker
	opts  Options
	users repository.UserRepository
	posts repository.PostRepository
	chats repository.ChatRepository
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 14
	}
	return &Seeder{
		db:    db,
		fake:  gofakeit.New(opts.Seed),
		opts:  opts,
		users: repository.NewUserRepository(db),
		posts: repository.NewPostRepository(db),
		chats: repository.NewChatRepository(db),
	}
}

// ClearAll deletes every row of every persistent model.
func (s *Seeder) ClearAll() error {
	log.Println("🗑️  Clearing existing data...")
	tables := database.PersistentModels()
	// children first
	for i := len(tables) - 1; i >= 0; i-- {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(tables[i]).Error; err != nil {
			return fmt.Errorf("failed to clear %T: %w", tables[i], err)
		}
	}
	return nil
}

// Run seeds users, follows, posts, engagement and a handful of chats.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	log.Printf("🌱 Seeding %d users and %d posts...", s.opts.NumUsers, s.opts.NumPosts)
	res := &Result{}

	users, err := s.SeedUsers(ctx, s.opts.NumUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to create users: %w", err)
	}
	res.Users = users
	log.Printf("✓ %d users created", len(users))

	if res.Follows, err = s.SeedFollows(ctx, users); err != nil {
		return nil, fmt.Errorf("failed to create follows: %w", err)
	}
	log.Printf("✓ %d follows created", res.Follows)

	if res.Posts, err = s.SeedPosts(ctx, users, s.opts.NumPosts); err != nil {
		return nil, fmt.Errorf("failed to create posts: %w", err)
	}
	log.Printf("✓ %d posts created", len(res.Posts))

	if err := s.SeedEngagement(ctx, users, res); err != nil {
		return nil, fmt.Errorf("failed to create engagement: %w", err)
	}
	log.Printf("✓ %d likes, %d comments, %d shares", res.Likes, res.Comments, res.Shares)

	if err := s.SeedChats(ctx, users, res); err != nil {
		return nil, fmt.Errorf("failed to create chats: %w", err)
	}
	log.Printf("✓ %d chats with %d messages", res.Chats, res.Messages)

	// backdated posts were scored at insert time; bring them in line with the clock
	if _, err := s.posts.RefreshScores(ctx, time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to refresh trending scores: %w", err)
	}

	log.Println("🎉 Database seeding completed successfully!")
	return res, nil
}

// SeedUsers creates count users with unique usernames.
func (s *Seeder) SeedUsers(ctx context.Context, count int) ([]*models.User, error) {
	users := make([]*models.User, 0, count)
	seen := make(map[string]bool, count)
	for len(users) < count {
		name := strings.ToLower(s.fake.Username())
		if len(name) > 60 || seen[name] {
			name = fmt.Sprintf("%s%d", s.fake.FirstName(), len(users))
			name = strings.ToLower(name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		u := &models.User{Username: name}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// SeedFollows gives every user a random set of followees.
func (s *Seeder) SeedFollows(ctx context.Context, users []*models.User) (int, error) {
	if len(users) < 2 {
		return 0, nil
	}
	total := 0
	for _, u := range users {
		n := s.fake.Number(1, min(8, len(users)-1))
		for range n {
			target := users[s.fake.Number(0, len(users)-1)]
			if target.ID == u.ID {
				continue
			}
			created, err := s.users.Follow(ctx, u.ID, target.ID)
			if err != nil {
				return total, err
			}
			if created {
				total++
			}
		}
	}
	return total, nil
}

// SeedPosts creates count posts spread over the configured number of days.
func (s *Seeder) SeedPosts(ctx context.Context, users []*models.User, count int) ([]*models.Post, error) {
	if len(users) == 0 {
		return nil, nil
	}
	posts := make([]*models.Post, 0, count)
	now := time.Now().UTC()
	for range count {
		author := users[s.fake.Number(0, len(users)-1)]
		category := s.fake.RandomString(categoryNames)
		post := &models.Post{
			AuthorID:  author.ID,
			Category:  category,
			Section:   s.fake.RandomString(categories[category]),
			Content:   s.fake.Paragraph(1, s.fake.Number(1, 3), 12, " "),
			CreatedAt: now.Add(-time.Duration(s.fake.Number(0, s.opts.MaxDays*24*60)) * time.Minute),
		}
		if err := s.posts.Create(ctx, post); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// SeedEngagement adds likes, comments and shares with a skew towards a few posts.
func (s *Seeder) SeedEngagement(ctx context.Context, users []*models.User, res *Result) error {
	if len(users) == 0 {
		return nil
	}
	for i, post := range res.Posts {
		// every fifth post gets a lot more attention
		scale := 1
		if i%5 == 0 {
			scale = 4
		}

		for range s.fake.Number(0, 3*scale) {
			u := users[s.fake.Number(0, len(users)-1)]
			_, liked, err := s.posts.ToggleLike(ctx, post.ID, u.ID)
			if err != nil {
				return err
			}
			if liked {
				res.Likes++
			} else {
				res.Likes--
			}
		}
		for range s.fake.Number(0, 2*scale) {
			u := users[s.fake.Number(0, len(users)-1)]
			c := &models.PostComment{PostID: post.ID, AuthorID: u.ID, Content: s.fake.Sentence(s.fake.Number(3, 12))}
			if _, err := s.posts.AddComment(ctx, c); err != nil {
				return err
			}
			res.Comments++
		}
		for range s.fake.Number(0, scale) {
			u := users[s.fake.Number(0, len(users)-1)]
			if _, err := s.posts.AddShare(ctx, &models.PostShare{PostID: post.ID, UserID: u.ID}); err != nil {
				return err
			}
			res.Shares++
		}
	}
	return nil
}

// SeedChats opens a chat between consecutive users and exchanges a few messages.
func (s *Seeder) SeedChats(ctx context.Context, users []*models.User, res *Result) error {
	for i := 0; i+1 < len(users) && i < 20; i += 2 {
		a, b := users[i], users[i+1]
		chat, _, err := s.chats.FindOrCreate(ctx, a.ID, b.ID)
		if err != nil {
			return err
		}
		res.Chats++

		for j := range s.fake.Number(1, 6) {
			sender := a
			if j%2 == 1 {
				sender = b
			}
			msg := &models.Message{
				ChatID:   chat.ID,
				SenderID: sender.ID,
				Content:  s.fake.Sentence(s.fake.Number(2, 10)),
				Type:     models.MessageTypeText,
			}
			if _, err := s.chats.AppendMessage(ctx, msg); err != nil {
				return err
			}
			res.Messages++
		}
	}
	return nil
}
